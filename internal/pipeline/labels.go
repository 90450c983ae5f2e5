package pipeline

import "fmt"

// LabelApp tags a release container with its owning application. Release
// swap discovers prior releases by this label.
const LabelApp = "slipway.app"

// RouteLabels returns the labels a release container carries so an
// external reverse proxy discovers it and routes <app>.<domain> to it
// over the given Docker network. This process never talks to the proxy
// directly.
func RouteLabels(app, domain, network string) map[string]string {
	return map[string]string{
		LabelApp:                 app,
		"traefik.enable":         "true",
		"traefik.docker.network": network,
		fmt.Sprintf("traefik.http.routers.%s.rule", app): fmt.Sprintf("Host(`%s.%s`)", app, domain),
		fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", app): fmt.Sprintf("%d", releasePort),
	}
}

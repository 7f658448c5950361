package wind

import (
	"net/http"

	"windmon/internal/wind/controller"
)

// RegisterFeature mounts the wind dashboard, JSON API and raw log routes.
func RegisterFeature(mux *http.ServeMux, deps controller.Deps) {
	windController := controller.NewWindController(deps)
	windController.RegisterRoutes(mux)
}

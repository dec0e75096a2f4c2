package main

import (
	iiwaGuard "iiwa_guard"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

func main() {
	// ModularMain can take multiple APIModel arguments, if your module implements multiple models.
	module.ModularMain(
		resource.APIModel{API: arm.API, Model: iiwaGuard.GuardArmModel},
		resource.APIModel{API: sensor.API, Model: iiwaGuard.ObstacleDistanceModel},
		resource.APIModel{API: discovery.API, Model: iiwaGuard.SceneDiscoveryModel},
	)
}

package main

import (
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"

	"shelfarm"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: generic.API, Model: shelfarm.Model},
		resource.APIModel{API: gripper.API, Model: shelfarm.GripperModel},
	)
}

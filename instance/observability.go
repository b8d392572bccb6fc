/*
Copyright (c) Clockwerk.io and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package instance

import (
	"github.com/clockwerk-io/ptpd/datasets"
)

// ProgramData identifies the build serving the snapshot
type ProgramData struct {
	Version         string  `json:"version"`
	BuildCommit     string  `json:"build_commit"`
	BuildCommitDate string  `json:"build_commit_date"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// ObservableInstanceState is a deep copy of the instance datasets,
// safe to hand to telemetry without exposing live engine state
type ObservableInstanceState struct {
	DefaultDS        datasets.DefaultDS        `json:"default_ds"`
	CurrentDS        datasets.CurrentDS        `json:"current_ds"`
	ParentDS         datasets.ParentDS         `json:"parent_ds"`
	TimePropertiesDS datasets.TimePropertiesDS `json:"time_properties_ds"`
	Ports            []datasets.PortDS         `json:"ports"`
}

// ObservableState is the full envelope served to exporters
type ObservableState struct {
	Program  ProgramData             `json:"program"`
	Instance ObservableInstanceState `json:"instance"`
}

// ObservableState returns a snapshot of all datasets
func (i *Instance) ObservableState() ObservableInstanceState {
	s := ObservableInstanceState{
		DefaultDS: i.defaultDS,
		CurrentDS: i.currentDS,
		ParentDS:  i.parentDS,
		TimePropertiesDS: i.timeProps,
	}
	if i.timeProps.CurrentUTCOffset != nil {
		off := *i.timeProps.CurrentUTCOffset
		s.TimePropertiesDS.CurrentUTCOffset = &off
	}
	for _, e := range i.ports {
		s.Ports = append(s.Ports, e.port.DS())
	}
	return s
}

// Package scenario runs scripted channel sessions against an engine.
//
// A scenario is a YAML document naming a list of steps:
//
//	name: brush_addref
//	steps:
//	  - {op: create_channel, channel: a}
//	  - {op: create_resource, channel: a, resource: brush, type: solid_color_brush}
//	  - {op: refcount, channel: a, resource: brush, expect: {refcount: 1}}
//	  - {op: commit, channel: a}
//
// Channels and resources are named by the script and resolved as steps run.
// Resources are tracked with tracker.MultiChannelResource so they can be
// duplicated between channels of one partition.
//
// Run returns a Result whose trace is deterministic for a given engine and
// script, which makes rendered traces suitable for golden files.
package scenario

package scenario

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
	"github.com/wippyai/composition/protocol"
)

// Scenario is a scripted channel session.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"`
}

// Step is one operation. Which fields apply depends on Op.
type Step struct {
	Op          string             `yaml:"op"`
	Channel     string             `yaml:"channel,omitempty"`
	Reference   string             `yaml:"reference,omitempty"`
	Target      string             `yaml:"target,omitempty"`
	Resource    string             `yaml:"resource,omitempty"`
	Type        string             `yaml:"type,omitempty"`
	Command     string             `yaml:"command,omitempty"`
	Ref         string             `yaml:"ref,omitempty"`
	Index       uint32             `yaml:"index,omitempty"`
	Args        map[string]float64 `yaml:"args,omitempty"`
	Mode        string             `yaml:"mode,omitempty"`
	X           []float64          `yaml:"x,omitempty"`
	Y           []float64          `yaml:"y,omitempty"`
	Dynamic     bool               `yaml:"dynamic,omitempty"`
	Disable     bool               `yaml:"disable,omitempty"`
	Synchronous bool               `yaml:"synchronous,omitempty"`
	OutOfBand   bool               `yaml:"out_of_band,omitempty"`
	Expect      *Expect            `yaml:"expect,omitempty"`
}

// Expect holds optional assertions checked after a step runs. Error names
// an error kind the step must fail with; the run continues afterwards.
type Expect struct {
	Created  *bool    `yaml:"created,omitempty"`
	Released *bool    `yaml:"released,omitempty"`
	RefCount *uint32  `yaml:"refcount,omitempty"`
	Null     *bool    `yaml:"null_handle,omitempty"`
	Channels *int     `yaml:"channels,omitempty"`
	Messages []string `yaml:"messages,omitempty"`
	Error    string   `yaml:"error,omitempty"`
}

const (
	OpCreateChannel         = "create_channel"
	OpCreateResource        = "create_resource"
	OpRelease               = "release"
	OpDuplicate             = "duplicate"
	OpSend                  = "send"
	OpGuidelines            = "guidelines"
	OpCommit                = "commit"
	OpCloseBatch            = "close_batch"
	OpSyncFlush             = "sync_flush"
	OpPresent               = "present"
	OpClose                 = "close"
	OpRegisterNotifications = "register_notifications"
	OpRefCount              = "refcount"
	OpInspect               = "inspect"
	OpDrain                 = "drain"
)

type needs struct {
	channel  bool
	resource bool
	target   bool
}

var ops = map[string]needs{
	OpCreateChannel:         {channel: true},
	OpCreateResource:        {channel: true, resource: true},
	OpRelease:               {channel: true, resource: true},
	OpDuplicate:             {channel: true, resource: true, target: true},
	OpSend:                  {channel: true},
	OpGuidelines:            {channel: true, resource: true},
	OpCommit:                {channel: true},
	OpCloseBatch:            {channel: true},
	OpSyncFlush:             {channel: true},
	OpPresent:               {channel: true},
	OpClose:                 {channel: true},
	OpRegisterNotifications: {channel: true},
	OpRefCount:              {channel: true, resource: true},
	OpInspect:               {resource: true},
	OpDrain:                 {channel: true},
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseScenario, errors.KindNotFound, err, "open scenario")
	}
	defer f.Close()
	return Decode(f)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads one scenario document from r. Unknown fields are rejected.
func Decode(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, errors.Wrap(errors.PhaseScenario, errors.KindInvalidData, err, "decode scenario")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// ParseStep reads the one-line form of a step used by interactive tools:
//
//	create_resource channel=a resource=brush type=solid_color_brush
//	send channel=a command=VisualSetOffset resource=root args.x=4 args.y=8
//
// Values are YAML scalars or flow sequences. A dotted key fills a nested
// mapping such as args or expect.
func ParseStep(line string) (Step, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Step{}, errors.InvalidInput(errors.PhaseScenario, "empty step")
	}

	doc := map[string]any{"op": fields[0]}
	for _, f := range fields[1:] {
		key, raw, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return Step{}, errors.InvalidInput(errors.PhaseScenario, "want key=value, got "+f)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return Step{}, errors.Wrap(errors.PhaseScenario, errors.KindInvalidData, err, key)
		}
		if parent, child, nested := strings.Cut(key, "."); nested {
			m, _ := doc[parent].(map[string]any)
			if m == nil {
				m = make(map[string]any)
				doc[parent] = m
			}
			m[child] = v
			continue
		}
		doc[key] = v
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return Step{}, errors.Wrap(errors.PhaseScenario, errors.KindInvalidData, err, "encode step")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var st Step
	if err := dec.Decode(&st); err != nil {
		return Step{}, errors.Wrap(errors.PhaseScenario, errors.KindInvalidData, err, "decode step")
	}
	if err := st.validate(); err != nil {
		return Step{}, err
	}
	return st, nil
}

// Validate checks that every step names a known op and carries the fields
// that op needs. Names of channels and resources are resolved at run time.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return errors.InvalidInput(errors.PhaseScenario, "scenario name is required")
	}
	if len(sc.Steps) == 0 {
		return errors.InvalidInput(errors.PhaseScenario, "scenario has no steps")
	}
	for i, st := range sc.Steps {
		if err := st.validate(); err != nil {
			return errors.New(errors.PhaseScenario, errors.KindInvalidInput).
				Path(sc.Name, fmt.Sprint(i)).
				Value(st.Op).
				Cause(err).
				Build()
		}
	}
	return nil
}

func (st Step) validate() error {
	n, ok := ops[st.Op]
	if !ok {
		return errors.NotFound(errors.PhaseScenario, "op", st.Op)
	}
	if n.channel && st.Channel == "" {
		return errors.InvalidInput(errors.PhaseScenario, st.Op+" needs a channel")
	}
	if n.resource && st.Resource == "" {
		return errors.InvalidInput(errors.PhaseScenario, st.Op+" needs a resource")
	}
	if n.target && st.Target == "" {
		return errors.InvalidInput(errors.PhaseScenario, st.Op+" needs a target channel")
	}
	if st.Type != "" {
		if _, ok := engine.ParseResourceType(st.Type); !ok {
			return errors.NotFound(errors.PhaseScenario, "resource type", st.Type)
		}
	}
	if _, err := parseMode(st.Mode); err != nil {
		return err
	}
	if st.Op == OpSend {
		t, ok := protocol.ParseCommandType(st.Command)
		if !ok {
			return errors.NotFound(errors.PhaseScenario, "command", st.Command)
		}
		if t.Variable() {
			return errors.Unsupported(errors.PhaseScenario, "send "+st.Command+"; use the guidelines op")
		}
		if t.HasTarget() && st.Resource == "" {
			return errors.InvalidInput(errors.PhaseScenario, st.Command+" needs a resource")
		}
	}
	return nil
}

func parseMode(s string) (engine.BatchMode, error) {
	switch s {
	case "", engine.WithinCurrentBatch.String():
		return engine.WithinCurrentBatch, nil
	case engine.AsOwnBatch.String():
		return engine.AsOwnBatch, nil
	}
	return 0, errors.NotFound(errors.PhaseScenario, "batch mode", s)
}

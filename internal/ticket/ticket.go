// Package ticket is the wire codec of work items sent over the broker.
// Every message is validated against an embedded JSON schema in both
// directions.
package ticket

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/me/testfleet/pkg/model"
)

//go:embed schema.json
var schemaJSON []byte

// ErrInvalid wraps every schema violation.
var ErrInvalid = errors.New("invalid ticket")

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiled() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile ticket schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// Validate checks a raw message against the schema.
func Validate(data []byte) error {
	s, err := compiled()
	if err != nil {
		return err
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, desc := range res.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}
	return nil
}

// Encode serializes item. Nil slices are sent as empty arrays and an empty
// build becomes the default build. Work tickets need a tag and at least one
// test id.
func Encode(item model.WorkItem) ([]byte, error) {
	if !item.IsStop() {
		if item.Tag == "" {
			return nil, fmt.Errorf("%w: empty tag", ErrInvalid)
		}
		if len(item.TestIDs) == 0 {
			return nil, fmt.Errorf("%w: empty test_set", ErrInvalid)
		}
	}
	if item.TestIDs == nil {
		item.TestIDs = []string{}
	}
	if item.Targets == nil {
		item.Targets = []string{}
	}
	if item.Build == "" {
		item.Build = model.DefaultBuild
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode ticket: %w", err)
	}
	if err := Validate(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Decode parses and validates a message. A STOP message is accepted even
// when its other fields are missing, since consumers ignore them.
func Decode(data []byte) (model.WorkItem, error) {
	var item model.WorkItem
	if err := Validate(data); err != nil {
		if stop, ok := decodeStop(data); ok {
			return stop, nil
		}
		return item, err
	}
	if err := json.Unmarshal(data, &item); err != nil {
		return item, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return item, nil
}

func decodeStop(data []byte) (model.WorkItem, bool) {
	var probe struct {
		Ticket *string `json:"te_ticket"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Ticket == nil {
		return model.WorkItem{}, false
	}
	if *probe.Ticket != model.StopTicket {
		return model.WorkItem{}, false
	}
	return Stop(), true
}

// Stop builds the administrative stop message.
func Stop() model.WorkItem {
	return model.WorkItem{
		TestIDs: []string{},
		Ticket:  model.StopTicket,
		Targets: []string{},
		Build:   model.DefaultBuild,
	}
}

package schedule

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/flow/runtime/errs"
)

// capacitySchemaJSON describes the shape LoadCapacity accepts: a flat JSON
// object mapping resource names to non-negative integer capacities.
const capacitySchemaJSON = `{
	"type": "object",
	"additionalProperties": {
		"type": "integer",
		"minimum": 0
	}
}`

// LoadCapacity parses and validates a JSON document against the embedded
// capacity schema, then constructs a root ResourceCapacitySource from it.
// This is an optional convenience for deployments that want default
// resource limits in a config file rather than a Go literal; nothing else
// in this package requires it.
func LoadCapacity(document []byte) (*ResourceCapacitySource, error) {
	var schemaDoc any
	if err := json.Unmarshal([]byte(capacitySchemaJSON), &schemaDoc); err != nil {
		return nil, errs.Protocol(fmt.Sprintf("schedule: unmarshal embedded capacity schema: %v", err))
	}
	var payloadDoc any
	if err := json.Unmarshal(document, &payloadDoc); err != nil {
		return nil, errs.Protocol(fmt.Sprintf("schedule: unmarshal capacity document: %v", err))
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("capacity.json", schemaDoc); err != nil {
		return nil, errs.Protocol(fmt.Sprintf("schedule: add capacity schema resource: %v", err))
	}
	schema, err := c.Compile("capacity.json")
	if err != nil {
		return nil, errs.Protocol(fmt.Sprintf("schedule: compile capacity schema: %v", err))
	}
	if err := schema.Validate(payloadDoc); err != nil {
		return nil, errs.Protocol(fmt.Sprintf("schedule: capacity document failed validation: %v", err))
	}

	var raw map[string]int
	if err := json.Unmarshal(document, &raw); err != nil {
		return nil, errs.Protocol(fmt.Sprintf("schedule: decode capacity document: %v", err))
	}
	return NewResourceCapacitySource(Cost(raw), nil), nil
}

// LoadChildCapacity is LoadCapacity for a non-root source, aggregating into
// parent.
func LoadChildCapacity(document []byte, parent *ResourceCapacitySource) (*ResourceCapacitySource, error) {
	root, err := LoadCapacity(document)
	if err != nil {
		return nil, err
	}
	return NewResourceCapacitySource(root.capacity, parent), nil
}

package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Handle is a live resource owned by the registry. Close releases it and is
// called exactly once, when the owning session is closed or the registry
// shuts down.
type Handle interface {
	Close(ctx context.Context) error
}

// Kind is the resource-specific collaborator a Registry is built around. It
// constructs handles and exposes the domain operations that can be invoked
// against them. The registry never inspects handles itself.
type Kind interface {
	Name() string
	// Construct opens a new handle for resourceName. Returned errors are
	// classified with CodeOf unless they already are *Error values.
	Construct(ctx context.Context, resourceName string, params json.RawMessage) (Handle, error)
	Operation(name string) (Operation, bool)
	Describe() KindDescriptor
}

// NameNormalizer may be implemented by a Kind whose resource names have more
// than one spelling, such as relative and absolute file paths. Initialize keys
// the store by the normalized name.
type NameNormalizer interface {
	NormalizeName(resourceName string) (string, error)
}

// KindDescriptor advertises a kind's construction parameters and operations.
type KindDescriptor struct {
	Name         string                `json:"name"`
	Description  string                `json:"description,omitempty"`
	ParamsSchema *jsonschema.Schema    `json:"params_schema,omitempty"`
	Operations   []OperationDescriptor `json:"operations"`
}

// OperationDescriptor advertises a single domain operation.
type OperationDescriptor struct {
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	ParamsSchema *jsonschema.Schema `json:"params_schema,omitempty"`
	ResultSchema *jsonschema.Schema `json:"result_schema,omitempty"`
}

// OperationFunc runs a domain operation against an open handle.
type OperationFunc func(ctx context.Context, h Handle, params json.RawMessage) (any, error)

// Operation pairs a descriptor with its handler.
type Operation struct {
	Descriptor OperationDescriptor
	Handler    OperationFunc
}

// Validator may be implemented by parameter types. Validate runs after
// decoding; a non-*Error result is reported as InvalidArgument.
type Validator interface {
	Validate() error
}

// OperationOption configures an Operation built with NewOperation.
type OperationOption func(*OperationDescriptor)

// WithOperationDescription sets the human-readable description of an operation.
func WithOperationDescription(desc string) OperationOption {
	return func(d *OperationDescriptor) { d.Description = desc }
}

// NewOperation builds a typed operation. Params are decoded strictly from
// JSON into P, the handle is asserted to H, and the result R is returned to
// the caller as-is. Schemas for P and R are reflected for Describe.
func NewOperation[H Handle, P any, R any](name string, fn func(ctx context.Context, h H, params P) (R, error), opts ...OperationOption) Operation {
	desc := OperationDescriptor{
		Name:         name,
		ParamsSchema: reflectSchema[P](),
		ResultSchema: reflectSchema[R](),
	}
	for _, opt := range opts {
		opt(&desc)
	}
	handler := func(ctx context.Context, h Handle, raw json.RawMessage) (any, error) {
		typed, ok := h.(H)
		if !ok {
			return nil, Errorf(CodeInternal, "operation %s: unexpected handle type %T", name, h)
		}
		params, err := decodeParams[P](raw)
		if err != nil {
			return nil, err
		}
		return fn(ctx, typed, params)
	}
	return Operation{Descriptor: desc, Handler: handler}
}

// ConstructFunc opens a handle from typed construction parameters.
type ConstructFunc[P any] func(ctx context.Context, resourceName string, params P) (Handle, error)

// KindOption configures a Kind built with NewKind.
type KindOption func(*staticKind)

// WithKindDescription sets the human-readable description of a kind.
func WithKindDescription(desc string) KindOption {
	return func(k *staticKind) { k.desc.Description = desc }
}

// WithNameNormalizer sets the function used to canonicalize resource names.
func WithNameNormalizer(fn func(resourceName string) (string, error)) KindOption {
	return func(k *staticKind) { k.normalize = fn }
}

// WithOperations registers domain operations on the kind. Registering two
// operations with the same name panics.
func WithOperations(ops ...Operation) KindOption {
	return func(k *staticKind) {
		for _, op := range ops {
			if _, dup := k.ops[op.Descriptor.Name]; dup {
				panic(fmt.Sprintf("registry: duplicate operation %q on kind %q", op.Descriptor.Name, k.desc.Name))
			}
			k.ops[op.Descriptor.Name] = op
			k.desc.Operations = append(k.desc.Operations, op.Descriptor)
		}
	}
}

type staticKind struct {
	desc      KindDescriptor
	construct func(ctx context.Context, resourceName string, raw json.RawMessage) (Handle, error)
	ops       map[string]Operation
	normalize func(string) (string, error)
}

var (
	_ Kind           = (*staticKind)(nil)
	_ NameNormalizer = (*staticKind)(nil)
)

// NewKind builds a Kind whose construction parameters decode into P.
func NewKind[P any](name string, construct ConstructFunc[P], opts ...KindOption) Kind {
	k := &staticKind{
		desc: KindDescriptor{
			Name:         name,
			ParamsSchema: reflectSchema[P](),
			Operations:   []OperationDescriptor{},
		},
		ops: make(map[string]Operation),
	}
	k.construct = func(ctx context.Context, resourceName string, raw json.RawMessage) (Handle, error) {
		params, err := decodeParams[P](raw)
		if err != nil {
			return nil, err
		}
		return construct(ctx, resourceName, params)
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *staticKind) Name() string { return k.desc.Name }

func (k *staticKind) Construct(ctx context.Context, resourceName string, params json.RawMessage) (Handle, error) {
	return k.construct(ctx, resourceName, params)
}

func (k *staticKind) Operation(name string) (Operation, bool) {
	op, ok := k.ops[name]
	return op, ok
}

func (k *staticKind) NormalizeName(resourceName string) (string, error) {
	if k.normalize == nil {
		return resourceName, nil
	}
	return k.normalize(resourceName)
}

func (k *staticKind) Describe() KindDescriptor {
	d := k.desc
	d.Operations = append([]OperationDescriptor(nil), k.desc.Operations...)
	return d
}

// decodeParams strictly decodes raw into P. Empty input and JSON null yield
// the zero value.
func decodeParams[P any](raw json.RawMessage) (P, error) {
	var p P
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return p, Errorf(CodeInvalidArgument, "invalid params: %v", err)
		}
	}
	if v, ok := any(&p).(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, typed := err.(*Error); typed {
				return p, err
			}
			return p, Errorf(CodeInvalidArgument, "invalid params: %v", err)
		}
	}
	return p, nil
}

// reflectSchema inlines the schema of T. Definitions are never referenced,
// so the root schema is complete for scalars, slices, maps and structs alike.
func reflectSchema[T any]() *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true}
	return r.Reflect(new(T))
}

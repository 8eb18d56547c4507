// Package genaibridge connects the shop tool registry to Gemini function
// calling: tool definitions become function declarations, and function
// calls from the model are dispatched back through the registry.
package genaibridge

import (
	"context"
	"sort"

	"google.golang.org/genai"

	"github.com/vango-go/vai-shop/pkg/core/types"
	"github.com/vango-go/vai-shop/pkg/gateway/apierror"
	"github.com/vango-go/vai-shop/pkg/gateway/tools"
	"github.com/vango-go/vai-shop/pkg/shop"
)

// FunctionDeclarations converts every registry tool, in name order.
func FunctionDeclarations(r *tools.Registry) []*genai.FunctionDeclaration {
	defs := r.Definitions()
	out := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		out = append(out, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  Schema(def.InputSchema),
		})
	}
	return out
}

// Tool wraps the declarations for a GenerateContentConfig.
func Tool(r *tools.Registry) *genai.Tool {
	return &genai.Tool{FunctionDeclarations: FunctionDeclarations(r)}
}

// Schema converts a JSON Schema to the Gemini subset. additionalProperties
// has no Gemini equivalent and is dropped; argument decoding still rejects
// unknown fields.
func Schema(s *types.JSONSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaType(s.Type),
		Description: s.Description,
		Enum:        append([]string(nil), s.Enum...),
		Required:    append([]string(nil), s.Required...),
		Items:       Schema(s.Items),
	}
	if s.Minimum != nil {
		v := *s.Minimum
		out.Minimum = &v
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		names := make([]string, 0, len(s.Properties))
		for name := range s.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			prop := s.Properties[name]
			out.Properties[name] = Schema(&prop)
		}
		out.PropertyOrdering = names
	}
	return out
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeUnspecified
	}
}

// Dispatch runs each call in order against the session and returns one
// function-response part per call. A failed tool becomes an error
// response the model can read; Dispatch itself never fails.
func Dispatch(ctx context.Context, r *tools.Registry, s *shop.Session, calls []*genai.FunctionCall) []*genai.Part {
	parts := make([]*genai.Part, 0, len(calls))
	for _, call := range calls {
		if call == nil {
			continue
		}
		args := call.Args
		if args == nil {
			args = map[string]any{}
		}
		parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: respond(ctx, r, s, call.Name, args),
		}})
	}
	return parts
}

func respond(ctx context.Context, r *tools.Registry, s *shop.Session, name string, args map[string]any) map[string]any {
	res, err := r.Execute(ctx, s, name, args)
	if err != nil {
		coreErr, _ := apierror.FromError(err, "")
		out := map[string]any{"error": coreErr.Message}
		if coreErr.Code != "" {
			out["code"] = coreErr.Code
		}
		return out
	}
	out := map[string]any{"output": res.Message}
	if res.Data != nil {
		out["data"] = res.Data
	}
	return out
}

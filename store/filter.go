package store

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/ast"
	"github.com/pkg/errors"
)

// FilterCond is one equality condition extracted from a list filter.
// Either Field names a top-level column (id, user_id, title) or MetadataKey
// names a key inside the metadata bag (dialogue_type, status, arbitrary
// extras). Drivers render conditions with their own placeholder syntax;
// the in-memory driver evaluates them directly.
type FilterCond struct {
	Field       string
	MetadataKey string
	Value       any // string, bool, int64 or float64
}

var sessionFilterEnv *cel.Env

func init() {
	var err error
	sessionFilterEnv, err = cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(err)
	}
}

// CompileSessionFilter parses a CEL filter expression into equality
// conditions. Supported forms: `field == <const>` and conjunctions thereof,
// where field is a declared top-level name or `metadata.<key>`.
//
//	user_id == "alice" && metadata.dialogue_type == "human_human_private"
func CompileSessionFilter(filter string) ([]FilterCond, error) {
	if filter == "" {
		return nil, nil
	}
	celAST, issues := sessionFilterEnv.Compile(filter)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "invalid filter expression: %s", filter)
	}
	var conds []FilterCond
	if err := collectFilterConds(celAST.NativeRep().Expr(), &conds); err != nil {
		return nil, err
	}
	return conds, nil
}

func collectFilterConds(expr ast.Expr, conds *[]FilterCond) error {
	if expr == nil {
		return errors.New("empty expression")
	}
	if expr.Kind() != ast.CallKind {
		return errors.New("filter must be a comparison expression (e.g., user_id == 'alice')")
	}

	call := expr.AsCall()
	switch call.FunctionName() {
	case "_&&_":
		for _, arg := range call.Args() {
			if err := collectFilterConds(arg, conds); err != nil {
				return err
			}
		}
		return nil
	case "_==_":
		args := call.Args()
		if len(args) != 2 {
			return errors.New("invalid comparison expression")
		}
		if cond, ok := condFromComparison(args[0], args[1]); ok {
			*conds = append(*conds, cond)
			return nil
		}
		if cond, ok := condFromComparison(args[1], args[0]); ok {
			*conds = append(*conds, cond)
			return nil
		}
		return errors.New("filter must compare a declared field with a constant")
	default:
		return errors.Errorf("unsupported operator: %s (only '==' and '&&' are supported)", call.FunctionName())
	}
}

// condFromComparison extracts a condition if left is a field reference and
// right is a constant literal.
func condFromComparison(left, right ast.Expr) (FilterCond, bool) {
	if right.Kind() != ast.LiteralKind {
		return FilterCond{}, false
	}
	value := right.AsLiteral().Value()
	switch value.(type) {
	case string, bool, int64, float64:
	default:
		return FilterCond{}, false
	}

	switch left.Kind() {
	case ast.IdentKind:
		name := left.AsIdent()
		switch name {
		case "id", "user_id", "title":
			return FilterCond{Field: name, Value: value}, true
		}
		return FilterCond{}, false
	case ast.SelectKind:
		sel := left.AsSelect()
		operand := sel.Operand()
		if operand.Kind() != ast.IdentKind || operand.AsIdent() != "metadata" {
			return FilterCond{}, false
		}
		return FilterCond{MetadataKey: sel.FieldName(), Value: value}, true
	default:
		return FilterCond{}, false
	}
}

// ValueText renders the condition value the way it appears as JSON text.
// Postgres `metadata->>key` extraction yields text, so equality there is a
// text comparison against this rendering.
func (c FilterCond) ValueText() string {
	switch v := c.Value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Match evaluates the condition against a session. Used by the in-memory
// driver and usable by callers that post-filter.
func (c FilterCond) Match(session *Session) bool {
	if session == nil {
		return false
	}
	if c.Field != "" {
		want, ok := c.Value.(string)
		if !ok {
			return false
		}
		switch c.Field {
		case "id":
			return session.ID == want
		case "user_id":
			return session.UserID == want
		case "title":
			return session.Title == want
		}
		return false
	}

	switch c.MetadataKey {
	case "dialogue_type":
		want, ok := c.Value.(string)
		return ok && session.Metadata.DialogueType == CanonicalDialogueType(want)
	case "status":
		want, ok := c.Value.(string)
		return ok && string(session.Metadata.Status) == want
	default:
		got, ok := session.Metadata.Extra[c.MetadataKey]
		if !ok {
			return false
		}
		// JSON decoding yields float64 for numbers; align int64 constants.
		if i, isInt := c.Value.(int64); isInt {
			if f, isFloat := got.(float64); isFloat {
				return f == float64(i)
			}
		}
		return got == c.Value
	}
}

package programs

import (
	"fmt"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dungeon-io/dungeon/internal/config"
	"github.com/dungeon-io/dungeon/internal/stacks"
)

// stackReference reads the outputs of another stack of the same environment.
func stackReference(ctx *pulumi.Context, cfg *config.Config, id stacks.ID) (*pulumi.StackReference, error) {
	name := fmt.Sprintf("%s/%s/%s", cfg.Pulumi.Organization.Name, id.Name(), cfg.Environment.Name)
	return pulumi.NewStackReference(ctx, name, nil)
}

// RequireString resolves a string output of ref. A missing output fails the program.
func RequireString(ref *pulumi.StackReference, name string) pulumi.StringOutput {
	return ref.GetOutput(pulumi.String(name)).ApplyT(func(v interface{}) (string, error) {
		return asString(name, v)
	}).(pulumi.StringOutput)
}

// RequireStringArray resolves a string array output of ref.
func RequireStringArray(ref *pulumi.StackReference, name string) pulumi.StringArrayOutput {
	return ref.GetOutput(pulumi.String(name)).ApplyT(func(v interface{}) ([]string, error) {
		return asStringArray(name, v)
	}).(pulumi.StringArrayOutput)
}

func asString(name string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("required stack output %s is missing or not a string", name)
	}
	return s, nil
}

func asStringArray(name string, v interface{}) ([]string, error) {
	switch vs := v.(type) {
	case []string:
		return vs, nil
	case []interface{}:
		out := make([]string, len(vs))
		for i, e := range vs {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("stack output %s[%d] is not a string", name, i)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("required stack output %s is missing or not a string array", name)
	}
}

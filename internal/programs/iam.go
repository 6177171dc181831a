package programs

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dungeon-io/dungeon/internal/config"
)

//go:embed policies/*
var policies embed.FS

func readPolicy(name string) (string, error) {
	b, err := policies.ReadFile("policies/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read policy %s: %w", name, err)
	}
	return string(b), nil
}

// renderPolicy executes an embedded policy template with the AWS configuration.
func renderPolicy(name string, aws config.AwsConfig) (string, error) {
	text, err := readPolicy(name)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse policy %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, aws); err != nil {
		return "", fmt.Errorf("failed to render policy %s: %w", name, err)
	}
	if !json.Valid(buf.Bytes()) {
		return "", fmt.Errorf("policy %s did not render to valid JSON", name)
	}
	return buf.String(), nil
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string                       `json:"Effect"`
	Principal map[string]string            `json:"Principal,omitempty"`
	Action    string                       `json:"Action"`
	Condition map[string]map[string]string `json:"Condition,omitempty"`
}

func trustPolicy(principalType, principal, action string, condition map[string]map[string]string) (string, error) {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string]string{principalType: principal},
			Action:    action,
			Condition: condition,
		}},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// accountTrust lets any principal of the account assume the role.
func accountTrust(accountID string) (string, error) {
	return trustPolicy("AWS", fmt.Sprintf("arn:aws:iam::%s:root", accountID), "sts:AssumeRole", nil)
}

func serviceTrust(service string) (string, error) {
	return trustPolicy("Service", service, "sts:AssumeRole", nil)
}

// serviceAccountTrust lets one Kubernetes service account assume the role through the cluster's OIDC provider.
func serviceAccountTrust(oidcArn, oidcURL, namespace, serviceAccount string) (string, error) {
	issuer := strings.TrimPrefix(oidcURL, "https://")
	return trustPolicy("Federated", oidcArn, "sts:AssumeRoleWithWebIdentity", map[string]map[string]string{
		"StringEquals": {
			issuer + ":sub": fmt.Sprintf("system:serviceaccount:%s:%s", namespace, serviceAccount),
			issuer + ":aud": "sts.amazonaws.com",
		},
	})
}

// newServiceAccountRole creates an IRSA role with an inline policy.
func newServiceAccountRole(ctx *pulumi.Context, name string, oidcArn, oidcURL pulumi.StringOutput, namespace, serviceAccount, policy string, opts ...pulumi.ResourceOption) (*iam.Role, error) {
	trust := pulumi.All(oidcArn, oidcURL).ApplyT(func(args []interface{}) (string, error) {
		return serviceAccountTrust(args[0].(string), args[1].(string), namespace, serviceAccount)
	}).(pulumi.StringOutput)

	role, err := iam.NewRole(ctx, name, &iam.RoleArgs{AssumeRolePolicy: trust}, opts...)
	if err != nil {
		return nil, err
	}
	_, err = iam.NewRolePolicy(ctx, name+"-policy", &iam.RolePolicyArgs{
		Role:   role.Name,
		Policy: pulumi.String(policy),
	}, opts...)
	if err != nil {
		return nil, err
	}
	return role, nil
}

// Entity is an IAM principal reference such as "user/alice".
type Entity struct {
	Kind string
	Name string
}

// ParseEntities splits a comma or space separated list of IAM entity references.
func ParseEntities(s *string) ([]Entity, error) {
	if s == nil {
		return nil, nil
	}
	fields := strings.FieldsFunc(*s, func(r rune) bool { return r == ',' || r == ' ' })
	entities := make([]Entity, 0, len(fields))
	for _, f := range fields {
		kind, name, ok := strings.Cut(f, "/")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid iam entity %q (expected group/, role/ or user/ prefix)", f)
		}
		switch kind {
		case "group", "role", "user":
		default:
			return nil, fmt.Errorf("invalid iam entity %q (expected group/, role/ or user/ prefix)", f)
		}
		entities = append(entities, Entity{Kind: kind, Name: name})
	}
	return entities, nil
}

// Arn returns the principal ARN of e in account.
func (e Entity) Arn(accountID string) string {
	return fmt.Sprintf("arn:aws:iam::%s:%s/%s", accountID, e.Kind, e.Name)
}

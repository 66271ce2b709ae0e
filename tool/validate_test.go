package tool

import (
	"slices"
	"testing"
)

func diagnosticFields(diags []Diagnostic) []string {
	fields := make([]string, 0, len(diags))
	for _, d := range diags {
		fields = append(fields, d.Field)
	}
	return fields
}

func TestValidateDefinitionAcceptsWellFormed(t *testing.T) {
	def := Definition{
		Name:        "create_expense",
		Description: "Create an expense record.",
		Inputs: []Param{
			Input("amount", TypeNumber, "Amount"),
			OptionalInput("note", TypeString, "Note", "none"),
		},
		OutputType: TypeObject,
		Auth:       &AuthSpec{Kind: AuthAPIKey, Required: true, Scopes: []string{"expenses:write"}},
	}
	if diags := ValidateDefinition(def); HasErrors(diags) {
		t.Fatalf("ValidateDefinition() errors = %v", diags)
	}
}

func TestValidateDefinitionReportsProblems(t *testing.T) {
	def := Definition{
		Name: "Bad-Name",
		Inputs: []Param{
			Input("amount", Type("uuid"), ""),
			Input("dup", TypeString, ""),
			Input("dup", TypeString, ""),
			{Name: "limit", Type: TypeNumber, Required: true, Default: 5},
			OptionalInput("flag", TypeBoolean, "", "yes"),
			{Name: ""},
		},
		OutputType: Type("integer"),
		Auth:       &AuthSpec{Kind: AuthNone, Required: true},
	}

	diags := ValidateDefinition(def)
	if !HasErrors(diags) {
		t.Fatal("HasErrors() = false, want true")
	}
	fields := diagnosticFields(diags)
	expect := []string{
		"name",
		"description",
		"inputs.amount.type",
		"inputs.dup",
		"inputs.limit.default",
		"inputs.flag.default",
		"inputs[5].name",
		"output_type",
		"auth.required",
	}
	for _, field := range expect {
		if !slices.Contains(fields, field) {
			t.Fatalf("expected diagnostic on %q, got: %v", field, fields)
		}
	}
}

func TestValidateDefinitionEmptyDescriptionIsWarning(t *testing.T) {
	diags := ValidateDefinition(Definition{Name: "ping", OutputType: TypeString})
	if HasErrors(diags) {
		t.Fatalf("HasErrors() = true, want false: %v", diags)
	}
	if len(diags) != 1 || diags[0].Severity != SeverityWarning {
		t.Fatalf("diags = %v, want one warning", diags)
	}
}

func TestValidateDefinitionVersionWarning(t *testing.T) {
	for _, version := range []string{"1.0.0", "2.1.3-beta.1", "0.4.0+build.7", ""} {
		def := Definition{Name: "ping", Description: "Ping.", OutputType: TypeString, Version: version}
		if diags := ValidateDefinition(def); len(diags) != 0 {
			t.Fatalf("version %q: diags = %v, want none", version, diags)
		}
	}

	def := Definition{Name: "ping", Description: "Ping.", OutputType: TypeString, Version: "v1"}
	diags := ValidateDefinition(def)
	if HasErrors(diags) || len(diags) != 1 || diags[0].Code != "INVALID_VERSION" {
		t.Fatalf("diags = %v, want one INVALID_VERSION warning", diags)
	}
}

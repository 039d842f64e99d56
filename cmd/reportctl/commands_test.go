package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"smartkollect/internal/auth"
	"smartkollect/internal/config"
)

const debtorsFixture = `
debtors:
  - {id: d1, acc_number: ACC-001, outstanding_balance: 1500}
  - {id: d2, acc_number: ACC-002, outstanding_balance: 250}
  - {id: d3, acc_number: ACC-003, outstanding_balance: 4200.5}
`

const balancesDefinition = `
name: Large balances
entities: [debtors]
selected_fields:
  debtors: [acc_number, outstanding_balance]
filters:
  - {field: outstanding_balance, operator: greater_than, value: 1000}
row_limit: 10
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCmd_CSV(t *testing.T) {
	dir := t.TempDir()
	def := writeFile(t, dir, "balances.yaml", balancesDefinition)
	data := writeFile(t, dir, "fixtures.yaml", debtorsFixture)

	cmd := runCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{def, "--data", data, "--csv"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "acc_number,outstanding_balance\nACC-001,1500\nACC-003,4200.5\n"
	if out.String() != want {
		t.Fatalf("got %q, want %q", out.String(), want)
	}
}

func TestRunCmd_WritesExport(t *testing.T) {
	dir := t.TempDir()
	def := writeFile(t, dir, "balances.yaml", balancesDefinition)
	data := writeFile(t, dir, "fixtures.yaml", debtorsFixture)
	outDir := filepath.Join(dir, "exports")

	cmd := runCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{def, "--data", data, "--out", outDir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(outDir, "Large balances.csv"))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.HasPrefix(string(got), "acc_number,outstanding_balance\nACC-001,1500\n") {
		t.Fatalf("unexpected export %q", got)
	}
}

func TestRunCmd_RequiresSource(t *testing.T) {
	def := writeFile(t, t.TempDir(), "balances.yaml", balancesDefinition)
	cmd := runCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{def})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "--data") {
		t.Fatalf("expected a missing source error, got %v", err)
	}
}

func TestSeedCmd_ThenRunFromDatabase(t *testing.T) {
	dir := t.TempDir()
	def := writeFile(t, dir, "balances.yaml", balancesDefinition)
	data := writeFile(t, dir, "fixtures.yaml", debtorsFixture)
	db := filepath.Join(dir, "reports.db")

	cmd := seedCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{data, "--db", db})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out.String(), "seeded 3 row(s) into debtors") {
		t.Fatalf("unexpected output %q", out.String())
	}

	cmd = runCmd()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{def, "--db", db, "--csv"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := "acc_number,outstanding_balance\nACC-001,1500\nACC-003,4200.5\n"; out.String() != want {
		t.Fatalf("got %q, want %q", out.String(), want)
	}

	cmd = seedCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{data, "--db", db})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "fresh database") {
		t.Fatalf("expected a duplicate row error, got %v", err)
	}
}

func TestSeedCmd_UnknownEntity(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "fixtures.yaml", "creditors:\n  - {id: c1}\n")
	cmd := seedCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{data, "--db", filepath.Join(dir, "reports.db")})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "creditors") {
		t.Fatalf("expected an unknown entity error, got %v", err)
	}
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", balancesDefinition)
	bad := writeFile(t, dir, "bad.yaml", "entities: [debtors]\n")

	cmd := validateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{good})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "Large balances: ok") {
		t.Fatalf("unexpected output %q", out.String())
	}

	cmd = validateCmd()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{bad})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected validation to fail")
	}
	for _, code := range []string{"NAME_REQUIRED", "NO_FIELDS"} {
		if !strings.Contains(out.String(), code) {
			t.Errorf("expected %s in output:\n%s", code, out.String())
		}
	}
}

func TestTokenCmd(t *testing.T) {
	cmd := tokenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--user", "agent-9", "--roles", "agent,admin"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	claims, err := auth.ParseAccessToken(strings.TrimSpace(out.String()), cfg.JWTSecret)
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if claims.Subject != "agent-9" || len(claims.Roles) != 2 {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

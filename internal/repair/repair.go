// Package repair lets an operator hand-edit a stack's exported state.
//
// Importing edited state bypasses preview: the change is irreversible and
// nothing audits it. Repair is therefore only offered interactively.
package repair

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/pulumi/pulumi/sdk/v3/go/common/apitype"
	"k8s.io/client-go/util/jsonpath"

	"github.com/dungeon-io/dungeon/internal/logging"
)

// ErrEditorFailed is returned when the editor cannot start or exits non-zero.
var ErrEditorFailed = errors.New("interactive repair failed")

// PendingPath selects the URNs of operations the engine never finished.
const PendingPath = "{.deployment.pending_operations[*].resource.urn}"

// Classification is the safety verdict on an edited state document.
type Classification int

const (
	Applicable Classification = iota
	Equivalent
	Error
	PendingResources
)

func (c Classification) String() string {
	switch c {
	case Applicable:
		return "applicable"
	case Equivalent:
		return "equivalent"
	case Error:
		return "error"
	case PendingResources:
		return "pending resources"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

// Report describes an edited state document.
type Report struct {
	Classification Classification
	// Detail explains an Error classification.
	Detail string
	// Pending lists the URNs of pending operations.
	Pending []string
}

// Classify compares the edited document with the original. Checks run in
// order: deployment shape, structural equality, pending-operation query
// errors, pending entries.
func Classify(original, edited []byte) Report {
	var a, b any
	if err := json.Unmarshal(original, &a); err != nil {
		return Report{Classification: Error, Detail: fmt.Sprintf("exported state: %v", err)}
	}
	if err := json.Unmarshal(edited, &b); err != nil {
		return Report{Classification: Error, Detail: err.Error()}
	}
	if err := checkDeployment(edited); err != nil {
		return Report{Classification: Error, Detail: err.Error()}
	}
	if cmp.Equal(a, b) {
		return Report{Classification: Equivalent}
	}

	pending, err := pendingURNs(b)
	if err != nil {
		return Report{Classification: Error, Detail: err.Error()}
	}
	if len(pending) > 0 {
		return Report{Classification: PendingResources, Pending: pending}
	}
	return Report{Classification: Applicable}
}

// checkDeployment requires a versioned stack export whose deployment is an object.
func checkDeployment(doc []byte) error {
	var d apitype.UntypedDeployment
	if err := json.Unmarshal(doc, &d); err != nil {
		return fmt.Errorf("not a stack deployment: %w", err)
	}
	if d.Version <= 0 {
		return errors.New("not a stack deployment: missing version")
	}
	raw := bytes.TrimSpace(d.Deployment)
	if len(raw) == 0 || raw[0] != '{' {
		return errors.New("not a stack deployment: deployment must be an object")
	}
	return nil
}

func pendingURNs(doc any) ([]string, error) {
	j := jsonpath.New("pending")
	j.AllowMissingKeys(true)
	if err := j.Parse(PendingPath); err != nil {
		return nil, err
	}
	results, err := j.FindResults(doc)
	if err != nil {
		return nil, err
	}

	var urns []string
	for _, set := range results {
		for _, v := range set {
			if !v.IsValid() {
				continue
			}
			if v.Kind() == reflect.Interface && v.IsNil() {
				urns = append(urns, "(null)")
				continue
			}
			urns = append(urns, fmt.Sprint(v.Interface()))
		}
	}
	return urns, nil
}

// State is the stack state a repair reads and replaces.
type State interface {
	FullName() string
	Export(ctx context.Context) (json.RawMessage, error)
	Import(ctx context.Context, doc json.RawMessage) error
}

// Workflow runs export, edit, classify and import.
type Workflow struct {
	Editor Editor
	Logger *slog.Logger
	// TempDir holds the scratch file; empty uses os.TempDir.
	TempDir string
}

func (w *Workflow) logger() *slog.Logger {
	if w.Logger == nil {
		return logging.Logger()
	}
	return w.Logger
}

// Edit writes doc to a temporary file, runs the editor on it and returns the
// file's contents afterwards. The file is always removed.
func (w *Workflow) Edit(ctx context.Context, doc []byte) ([]byte, error) {
	f, err := os.CreateTemp(w.TempDir, "dungeon-repair-*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create repair file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	_, werr := f.Write(doc)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return nil, fmt.Errorf("failed to write repair file: %w", werr)
	}

	code, err := w.Editor.Edit(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEditorFailed, err)
	}
	if code != 0 {
		return nil, fmt.Errorf("%w: editor returned non-zero exit code %d", ErrEditorFailed, code)
	}

	edited, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read repair file: %w", err)
	}
	return edited, nil
}

// Run repairs st. Unsafe edits are reported and skipped; only editor
// failures and engine errors are returned as errors.
func (w *Workflow) Run(ctx context.Context, st State) (Report, error) {
	l := w.logger().With("stack", st.FullName())

	exported, err := st.Export(ctx)
	if err != nil {
		return Report{}, err
	}
	original := indent(exported)

	edited, err := w.Edit(ctx, original)
	if err != nil {
		return Report{}, err
	}

	report := Classify(original, edited)
	switch report.Classification {
	case Equivalent:
		l.Warn("Repaired stack resources ignored (equivalent)")
	case Error:
		l.Warn("Repaired stack resources ignored (error)", "error", report.Detail)
	case PendingResources:
		l.Warn("Repaired stack resources ignored (pending resources)")
		for _, urn := range report.Pending {
			l.Warn("Pending operation", "urn", urn)
		}
	case Applicable:
		if diff := Diff(original, indent(edited)); diff != "" {
			l.Info("Repaired stack state diff\n" + diff)
		}
		l.Warn("Importing repaired state; this bypasses preview and cannot be undone")
		if err := st.Import(ctx, edited); err != nil {
			return report, err
		}
		l.Info("Repaired stack resources")
	}
	return report, nil
}

// Diff renders a unified diff between two state documents.
func Diff(before, after []byte) string {
	if bytes.Equal(before, after) {
		return ""
	}
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: "exported",
		ToFile:   "repaired",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return fmt.Sprintf("failed to render diff: %v", err)
	}
	return text
}

// indent pretty-prints doc for editing, leaving invalid JSON untouched.
func indent(doc []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return doc
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

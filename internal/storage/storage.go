package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"db_respawn/internal/reset"
)

// PlanRecord describes a rendered reset plan stored on disk.
type PlanRecord struct {
	Target         string    `json:"target"`
	Provider       string    `json:"provider"`
	Tables         []string  `json:"tables"`
	CyclicalTables []string  `json:"cyclical_tables"`
	DeleteFile     string    `json:"delete_file"`
	ReseedFile     string    `json:"reseed_file,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Checksum       string    `json:"checksum"`
}

// EnsureBase makes sure the storage root exists.
func EnsureBase(base string) error {
	return os.MkdirAll(filepath.Join(base, "plans"), 0o755)
}

// StorePlan writes the plan's SQL and a manifest under plans/<target>,
// replacing what an earlier run stored for the same target.
func StorePlan(base, target string, plan *reset.Plan) (PlanRecord, error) {
	if target == "" {
		return PlanRecord{}, fmt.Errorf("target is required")
	}
	dir := planDir(base, target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return PlanRecord{}, err
	}

	record := PlanRecord{
		Target:     target,
		Provider:   plan.Dialect.Provider(),
		DeleteFile: filepath.Join(dir, "delete.sql"),
		CreatedAt:  time.Now().UTC(),
	}
	for _, t := range plan.Graph.ToDelete {
		record.Tables = append(record.Tables, t.String())
	}
	for _, t := range plan.Graph.CyclicalTables {
		record.CyclicalTables = append(record.CyclicalTables, t.String())
	}

	if err := os.WriteFile(record.DeleteFile, []byte(plan.DeleteSQL), 0o644); err != nil {
		return PlanRecord{}, fmt.Errorf("write delete script: %w", err)
	}
	reseedPath := filepath.Join(dir, "reseed.sql")
	if plan.ReseedSQL != "" {
		if err := os.WriteFile(reseedPath, []byte(plan.ReseedSQL), 0o644); err != nil {
			return PlanRecord{}, fmt.Errorf("write reseed script: %w", err)
		}
		record.ReseedFile = reseedPath
	} else if err := os.Remove(reseedPath); err != nil && !os.IsNotExist(err) {
		return PlanRecord{}, err
	}
	record.Checksum = planChecksum(plan)

	if err := writeJSON(filepath.Join(dir, "manifest.json"), record); err != nil {
		return PlanRecord{}, err
	}
	return record, nil
}

// PlanStatus compares a stored plan with a freshly built one.
type PlanStatus struct {
	Record PlanRecord `json:"record"`
	// Intact is false when the scripts on disk no longer match the manifest.
	Intact bool `json:"intact"`
	// Current is true when the fresh plan renders the same scripts.
	Current bool `json:"current"`
}

// CheckPlan loads the plan stored for target and compares it with plan. A
// stored plan that is not current means the schema or the target's options
// changed since it was written.
func CheckPlan(base, target string, plan *reset.Plan) (PlanStatus, error) {
	record, deleteSQL, reseedSQL, err := loadPlan(base, target)
	if err != nil {
		return PlanStatus{}, err
	}
	return PlanStatus{
		Record:  record,
		Intact:  verify(record, deleteSQL, reseedSQL),
		Current: record.Checksum == planChecksum(plan),
	}, nil
}

// ListPlans returns the manifests of every stored plan.
func ListPlans(base string) ([]PlanRecord, error) {
	entries, err := os.ReadDir(filepath.Join(base, "plans"))
	if err != nil {
		if os.IsNotExist(err) {
			return []PlanRecord{}, nil
		}
		return nil, err
	}
	records := make([]PlanRecord, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := loadManifest(base, e.Name())
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func loadPlan(base, target string) (PlanRecord, string, string, error) {
	record, err := loadManifest(base, target)
	if err != nil {
		return record, "", "", err
	}

	deleteBytes, err := os.ReadFile(record.DeleteFile)
	if err != nil {
		return record, "", "", fmt.Errorf("read delete script: %w", err)
	}
	var reseedContent string
	if record.ReseedFile != "" {
		rb, err := os.ReadFile(record.ReseedFile)
		if err != nil {
			return record, "", "", fmt.Errorf("read reseed script: %w", err)
		}
		reseedContent = string(rb)
	}
	return record, string(deleteBytes), reseedContent, nil
}

func loadManifest(base, target string) (PlanRecord, error) {
	var record PlanRecord
	data, err := os.ReadFile(filepath.Join(planDir(base, target), "manifest.json"))
	if err != nil {
		return record, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("parse manifest: %w", err)
	}
	return record, nil
}

func verify(record PlanRecord, deleteSQL, reseedSQL string) bool {
	blobs := [][]byte{[]byte(deleteSQL)}
	if record.ReseedFile != "" {
		blobs = append(blobs, []byte(reseedSQL))
	}
	return computeChecksum(blobs...) == record.Checksum
}

func planChecksum(plan *reset.Plan) string {
	if plan.ReseedSQL != "" {
		return computeChecksum([]byte(plan.DeleteSQL), []byte(plan.ReseedSQL))
	}
	return computeChecksum([]byte(plan.DeleteSQL))
}

func planDir(base, target string) string {
	return filepath.Join(base, "plans", safeName(target))
}

func safeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	return name
}

func computeChecksum(blobs ...[]byte) string {
	h := sha256.New()
	for _, b := range blobs {
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

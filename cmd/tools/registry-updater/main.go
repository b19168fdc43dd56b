// cmd/tools/registry-updater/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"funding-workflow/internal/models"
	"funding-workflow/internal/verification"
	"funding-workflow/pkg/registry"
)

const defaultPath = "configs/step-registry.json"

func main() {
	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	evidenceCmd := flag.NewFlagSet("require-evidence", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)

	initPath := initCmd.String("path", defaultPath, "Path to registry file")
	force := initCmd.Bool("force", false, "Overwrite an existing registry")

	updatePath := updateCmd.String("path", defaultPath, "Path to registry file")
	stepUpdate := updateCmd.String("step", "", "Step to update (e.g., cac)")
	field := updateCmd.String("field", "", "Field to update (displayName, description, version, tags)")
	value := updateCmd.String("value", "", "New value for the field")

	evidencePath := evidenceCmd.String("path", defaultPath, "Path to registry file")
	stepEvidence := evidenceCmd.String("step", "", "Step that must carry the evidence")
	label := evidenceCmd.String("label", "", "Evidence label (e.g., cac_certificate)")
	kind := evidenceCmd.String("kind", string(models.EvidenceDocument), "Evidence kind (document, video, bank_link)")

	validatePath := validateCmd.String("path", defaultPath, "Path to registry file")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		initCmd.Parse(os.Args[2:])
		err = initRegistry(*initPath, *force)
		if err == nil {
			fmt.Printf("Wrote default step registry to %s\n", *initPath)
		}

	case "update":
		updateCmd.Parse(os.Args[2:])
		if *stepUpdate == "" || *field == "" || *value == "" {
			fmt.Println("Error: step, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		err = updateStep(*updatePath, *stepUpdate, *field, *value)
		if err == nil {
			fmt.Printf("Updated step %s, field %s to %s\n", *stepUpdate, *field, *value)
		}

	case "require-evidence":
		evidenceCmd.Parse(os.Args[2:])
		if *stepEvidence == "" || *label == "" {
			fmt.Println("Error: step and label are required for require-evidence.")
			evidenceCmd.Usage()
			os.Exit(1)
		}
		err = requireEvidence(*evidencePath, *stepEvidence, *label, *kind)
		if err == nil {
			fmt.Printf("Step %s now requires %s evidence %q\n", *stepEvidence, *kind, *label)
		}

	case "validate":
		validateCmd.Parse(os.Args[2:])
		var n int
		n, err = validateRegistry(*validatePath)
		if err == nil {
			fmt.Printf("Registry validation passed. Found %d steps.\n", n)
		}

	case "help":
		fallthrough
	default:
		help()
		return
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func initRegistry(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists; use -force to overwrite", path)
	}
	return registry.SaveRegistry(verification.DefaultSteps(), path)
}

func updateStep(path, step, field, value string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	def, ok := reg.Find(step)
	if !ok {
		return fmt.Errorf("step %s not found", step)
	}

	switch field {
	case "displayName":
		def.DisplayName = value
	case "description":
		def.Description = value
	case "version":
		def.Version = value
	case "tags":
		def.Tags = strings.Split(value, ",")
	default:
		return fmt.Errorf("unknown field: %s", field)
	}
	return registry.SaveRegistry(reg, path)
}

func requireEvidence(path, step, label, kind string) error {
	switch models.EvidenceKind(kind) {
	case models.EvidenceDocument, models.EvidenceVideo, models.EvidenceBankLink:
	default:
		return fmt.Errorf("unknown evidence kind: %s", kind)
	}

	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	def, ok := reg.Find(step)
	if !ok {
		return fmt.Errorf("step %s not found", step)
	}
	for _, ev := range def.RequiredEvidence {
		if ev.Label == label {
			return fmt.Errorf("step %s already requires %s", step, label)
		}
	}
	def.RequiredEvidence = append(def.RequiredEvidence, registry.EvidenceRequirement{Label: label, Kind: kind})
	return registry.SaveRegistry(reg, path)
}

// validateRegistry loads the file the way the service does, so a registry
// that passes here is one the service will start with.
func validateRegistry(path string) (int, error) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return 0, fmt.Errorf("failed to load registry: %w", err)
	}
	if _, err := verification.NewCatalog(reg); err != nil {
		return 0, err
	}
	return len(reg.Steps), nil
}

func help() {
	fmt.Print(`
Usage: registry-updater <command> [flags]

Commands:
  init              Write the built-in step definitions to a registry file
  update            Update a step's field
  require-evidence  Add an evidence requirement to a step
  validate          Validate the registry file
  help              Show this help message

Examples:
  registry-updater init -path configs/step-registry.json
  registry-updater update -step cac -field displayName -value "CAC Registration"
  registry-updater require-evidence -step business_info -label utility_bill -kind document
  registry-updater validate -path configs/step-registry.json

Use 'registry-updater <command> -h' for more information about a command.
` + "\n")
}

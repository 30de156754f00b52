package schemas

// -- Patch Evaluation Schemas --
//
// These mirror the on-disk artifacts exchanged with the external agent runner
// and patch-evaluation harness: a predictions file mapping instance id to the
// produced patch, and one report.json per evaluated instance.

// Prediction is a single produced patch for one task instance, as written to
// the runner's predictions file.
type Prediction struct {
	InstanceID string `json:"instance_id"`
	ModelName  string `json:"model_name_or_path"`
	ModelPatch string `json:"model_patch"`
}

// TestGroup holds the per-test outcomes for one test category of an instance.
type TestGroup struct {
	Success []string `json:"success"`
	Failure []string `json:"failure"`
}

// TestsStatus groups the harness test outcomes by category.
type TestsStatus struct {
	FailToPass TestGroup `json:"FAIL_TO_PASS"`
	PassToPass TestGroup `json:"PASS_TO_PASS"`
}

// InstanceReport is the harness verdict for a single task instance.
type InstanceReport struct {
	Resolved    bool        `json:"resolved"`
	TestsStatus TestsStatus `json:"tests_status"`
}

// EvaluationReport maps instance id to its harness verdict, matching the
// layout of a report.json file.
type EvaluationReport map[string]InstanceReport

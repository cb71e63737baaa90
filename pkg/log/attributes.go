// Standard attribute keys. Keys are hierarchical ("model.name",
// "data.samples") so that JSON logs can be filtered by prefix.

package log

// Model and operation context.
const (
	// ModelNameKey identifies the model variant ("rpart", "svmRadial") or estimator type.
	ModelNameKey = "model.name"

	// RunIDKey identifies one pipeline run.
	RunIDKey = "run.id"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "split", "search", "evaluate"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is logging.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the run.
	PhaseKey = "ml.phase"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	ClassesKey  = "data.classes"

	// SourceKey is the dataset path or URL.
	SourceKey = "data.source"

	// TrainSizeKey and TestSizeKey record the partition sizes.
	TrainSizeKey = "split.train"
	TestSizeKey  = "split.test"
)

// Performance and metrics.
const (
	DurationMsKey    = "perf.duration_ms"
	AccuracyKey      = "metrics.accuracy"
	TrainAccuracyKey = "metrics.train_accuracy"
	KappaKey         = "metrics.kappa"
	BaselineKey      = "metrics.baseline"
	IterationKey     = "training.iteration"
)

// Hyperparameter search.
const (
	// HyperParamsKey contains a hyperparameter point.
	HyperParamsKey = "model.hyperparams"

	GridPointsKey = "search.grid_points"
	GridPointKey  = "search.grid_point"
	FoldsKey      = "search.folds"
	RepeatsKey    = "search.repeats"
	FoldKey       = "search.fold"
	WorkersKey    = "search.workers"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Error context.
const (
	ErrorTypeKey  = "error.type"
	StacktraceKey = "error.stacktrace"
)

// Standard attribute values.
const (
	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationTransform = "transform"
	OperationSplit     = "split"
	OperationSearch    = "search"
	OperationEvaluate  = "evaluate"
	OperationLoad      = "load"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhasePreprocessing = "preprocessing"
)

package progress

// StageSets returns the built-in template-category stage sets, each
// already normalized so its weights sum to 1.
func StageSets() map[string][]Stage {
	return map[string][]Stage{
		"image": {
			{Name: "queue", Description: "Waiting in queue", Weight: 0.05},
			{Name: "preparation", Description: "Preparing inputs", Weight: 0.15},
			{Name: "generation", Description: "Generating image", Weight: 0.70},
			{Name: "finalization", Description: "Finalizing output", Weight: 0.10},
		},
		"video": {
			{Name: "queue", Description: "Waiting in queue", Weight: 0.05},
			{Name: "loading", Description: "Loading models", Weight: 0.20},
			{Name: "frame_generation", Description: "Generating frames", Weight: 0.60},
			{Name: "post_processing", Description: "Post-processing video", Weight: 0.15},
		},
		"audio": {
			{Name: "queue", Description: "Waiting in queue", Weight: 0.05},
			{Name: "preparation", Description: "Preparing inputs", Weight: 0.10},
			{Name: "synthesis", Description: "Synthesizing audio", Weight: 0.75},
			{Name: "post_processing", Description: "Post-processing audio", Weight: 0.10},
		},
		"text": {
			{Name: "queue", Description: "Waiting in queue", Weight: 0.05},
			{Name: "preparation", Description: "Preparing prompt", Weight: 0.10},
			{Name: "generation", Description: "Generating text", Weight: 0.80},
			{Name: "finalization", Description: "Finalizing output", Weight: 0.05},
		},
		"default": {
			{Name: "queue", Description: "Waiting in queue", Weight: 0.10},
			{Name: "processing", Description: "Processing", Weight: 0.80},
			{Name: "finalization", Description: "Finalizing output", Weight: 0.10},
		},
	}
}

// stageRegistry holds built-in sets plus any custom sets registered per
// template id, alongside the built-in image/video/audio/text/default sets.
type stageRegistry struct {
	byCategory map[string][]Stage
	byTemplate map[string][]Stage
}

func newStageRegistry() *stageRegistry {
	return &stageRegistry{byCategory: StageSets(), byTemplate: make(map[string][]Stage)}
}

// RegisterTemplateStages overrides the stage set for a specific template id.
func (s *stageRegistry) RegisterTemplateStages(templateID string, stages []Stage) {
	s.byTemplate[templateID] = normalize(stages)
}

// StagesFor resolves the stage set for templateID/category, preferring a
// template-specific override, falling back to the category set, falling
// back to "default".
func (s *stageRegistry) StagesFor(templateID, category string) []Stage {
	if stages, ok := s.byTemplate[templateID]; ok {
		return stages
	}
	if stages, ok := s.byCategory[category]; ok {
		return stages
	}
	return s.byCategory["default"]
}

func normalize(stages []Stage) []Stage {
	var sum float64
	for _, s := range stages {
		sum += s.Weight
	}
	if sum <= 0 {
		return stages
	}
	out := make([]Stage, len(stages))
	for i, s := range stages {
		s.Weight = s.Weight / sum
		out[i] = s
	}
	return out
}

func newStageProgress(stages []Stage) []StageProgress {
	out := make([]StageProgress, len(stages))
	for i, s := range stages {
		out[i] = StageProgress{Name: s.Name, Weight: s.Weight, Status: StagePending}
	}
	return out
}

// stageNameFor maps a stage name to the task-status bucket it belongs to
// by current-stage name.
func stageNameFor(name string) TaskStatus {
	switch name {
	case "queue":
		return TaskQueued
	case "preparation", "loading":
		return TaskPreparing
	case "generation", "execution", "frame_generation", "synthesis":
		return TaskExecuting
	case "finalization", "post_processing":
		return TaskFinalizing
	default:
		return TaskExecuting
	}
}

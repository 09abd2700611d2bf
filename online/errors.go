package online

import "errors"

var (
	// ErrNotFitted is returned by PredictOne and ScoreOne before the first
	// LearnOne call. Prediction never initializes a model: an uninitialized
	// network would only return noise, so the caller has to learn first.
	ErrNotFitted = errors.New("online: model not fitted, call LearnOne first")

	// ErrFeatureMismatch is returned when an example cannot be projected
	// onto the feature ordering frozen by the first example, or when a
	// feature value is NaN or infinite.
	ErrFeatureMismatch = errors.New("online: example incompatible with fitted feature space")

	// ErrBuild is returned when the user-supplied build function fails or
	// produces a network whose shape does not fit the adapter.
	ErrBuild = errors.New("online: network build failed")
)

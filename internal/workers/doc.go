// Package workers implements one stage.Worker per generation stage.
//
// The analyzing, script, characters, and dialogue workers prompt the text
// model through the embedded prompt catalog (prompts.yaml). The designs,
// panels, and finalizing workers fan image requests out through an errgroup
// bounded by images.concurrency. The layouts worker is pure geometry.
//
// Every worker is idempotent: it derives its result from the project and the
// prior outputs of the current run, and entities it already produced (an
// existing reference image or panel artwork) are reused rather than requested
// again.
package workers

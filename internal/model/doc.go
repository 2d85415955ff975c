package model

// Package model defines the job data shared between the scheduler and its
// workers: lifecycle states, progress snapshots, probed metadata, the event
// union produced by the output parser and the terminal result payload.

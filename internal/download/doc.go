package download

// Package download implements the job pipeline: the scheduler that owns the
// queue and the concurrency budget, the download worker that probes, names,
// runs and supervises yt-dlp, and the hand-off of finished downloads to the
// conversion step.

package compress

// Package compress implements the post-download conversion step: deciding
// between a container remux and a codec re-encode, building the ffmpeg
// command line and supervising the run.

// Command ugoira-convert runs the transcoding pipeline offline.
//
// Usage:
//
//	ugoira-convert <command> [flags]
//
// Commands:
//
//	convert -zip frames.zip -meta meta.json -o out.mp4
//	        Convert a frame archive saved to disk. meta.json is the
//	        ugoira_meta API response or just its body object.
//
//	fetch   -id 44298467 [-o 44298467.mp4]
//	        Download the metadata and archive for an animation and convert
//	        them. API_BASE, USER_AGENT and UPSTREAM_COOKIE are read from the
//	        environment.
//
//	inspect [-v] file.mp4
//	        Print the brand, codec, dimensions and sample table of an MP4.
//
// convert and fetch accept -encoder (h264 | mjpeg), -decoder (std | vips),
// -ffmpeg, -quality, -preset, -crf and -max-output. With -o - the video is
// written to standard output, which must not be a terminal.
//
// Exit status is 2 for usage errors and 1 for any other failure.
package main

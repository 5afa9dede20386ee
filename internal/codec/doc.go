// Package codec runs the ffmpeg invocations for both pipeline stages.
//
// Transform crops one half of the source frame and re-encodes it with an
// intra-only codec, so the expensive decode of each source happens once
// no matter how many pairs the item later participates in. Combine
// stacks two intermediates side by side into the final output.
//
// Failed runs are classified from captured stderr into transient errors
// (worth retrying) and input errors (the source itself is bad, retrying
// cannot help).
package codec

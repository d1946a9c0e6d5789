// Package audio decodes synthesized speech and plays it on one or two
// output devices at once. Indexed devices are opened through miniaudio
// (malgo); the platform default device goes through oto/v3.
package audio

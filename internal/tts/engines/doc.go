// Package engines contains the speech synthesis adapters.
// VoicevoxEngine talks to a local VOICEVOX HTTP engine and returns WAV;
// GTTSEngine calls the Google translate TTS endpoint and returns MP3.
// Both implement ttypes.Engine.
package engines

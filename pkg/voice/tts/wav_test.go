package tts

import (
	"encoding/binary"
	"testing"
)

func TestPCMToWAV_Header(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav := PCMToWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("container magic = %q %q", wav[0:4], wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Fatalf("riff size = %d", got)
	}
	if string(wav[12:16]) != "fmt " {
		t.Fatalf("fmt tag = %q", wav[12:16])
	}
	if got := binary.LittleEndian.Uint16(wav[20:22]); got != 1 {
		t.Fatalf("audio format = %d, want PCM", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Fatalf("channels = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Fatalf("byte rate = %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Fatalf("bits per sample = %d", got)
	}
	if string(wav[36:40]) != "data" {
		t.Fatalf("data tag = %q", wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d", got)
	}
	if string(wav[44:]) != string(pcm) {
		t.Fatalf("payload mangled")
	}
}

func TestPCMToWAV_Defaults(t *testing.T) {
	wav := PCMToWAV(nil, 0, 0)
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != defaultSampleRate {
		t.Fatalf("sample rate = %d, want %d", got, defaultSampleRate)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Fatalf("channels = %d, want mono", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 0 {
		t.Fatalf("data size = %d, want 0", got)
	}
}

func TestPCMToWAV_Stereo(t *testing.T) {
	wav := PCMToWAV(make([]byte, 8), 48000, 2)
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 2 {
		t.Fatalf("channels = %d", got)
	}
	// byte rate = rate * channels * 2, block align = channels * 2
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 192000 {
		t.Fatalf("byte rate = %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[32:34]); got != 4 {
		t.Fatalf("block align = %d", got)
	}
}

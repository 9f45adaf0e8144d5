package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
)

func TestBytesToSamples(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want []int16
	}{
		{"empty", nil, []int16{}},
		{"zero", []byte{0x00, 0x00}, []int16{0}},
		{"positive", []byte{0x34, 0x12}, []int16{0x1234}},
		{"negative", []byte{0xff, 0xff}, []int16{-1}},
		{"full scale", []byte{0x00, 0x80, 0xff, 0x7f}, []int16{-32768, 32767}},
		{"odd trailing byte ignored", []byte{0x01, 0x00, 0x02}, []int16{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bytesToSamples(tt.pcm)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sample[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMediaEventDecoding(t *testing.T) {
	raw := `{"event":"start","start":{"title":"Kickoff","sampleRate":48000,"channels":2}}`
	var ev mediaEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Event != "start" || ev.Start.Title != "Kickoff" || ev.Start.SampleRate != 48000 || ev.Start.Channels != 2 {
		t.Errorf("decoded = %+v", ev)
	}

	raw = `{"event":"media","media":{"payload":"AAA="}}`
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Event != "media" || ev.Media.Payload != "AAA=" {
		t.Errorf("decoded = %+v", ev)
	}
}

func TestLocalIssuerSignsVerifiableToken(t *testing.T) {
	issuer := localIssuer{secret: "test-secret", ttl: time.Minute}

	signed, err := issuer.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			t.Fatalf("unexpected signing method %v", tok.Header["alg"])
		}
		return []byte("test-secret"), nil
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		t.Fatal("token should carry valid map claims")
	}
	if claims["iss"] != "minutevault" {
		t.Errorf("iss = %v", claims["iss"])
	}
	exp, _ := claims["exp"].(float64)
	iat, _ := claims["iat"].(float64)
	if exp-iat != 60 {
		t.Errorf("ttl = %vs, want 60s", exp-iat)
	}
}

func TestLocalIssuerRequiresSecret(t *testing.T) {
	issuer := localIssuer{ttl: time.Minute}
	if _, err := issuer.Token(context.Background()); err == nil {
		t.Error("Token without a secret should fail")
	}
}

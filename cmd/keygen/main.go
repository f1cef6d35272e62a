package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	jwtsvc "authservice/internal/pkg/jwt"
)

// keygen writes an RSA keypair for signing access tokens in local development.
func main() {
	privatePath := flag.String("private", "certs/jwt-private.pem", "private key output path")
	publicPath := flag.String("public", "certs/jwt-public.pem", "public key output path")
	bits := flag.Int("bits", 2048, "RSA key size")
	force := flag.Bool("force", false, "overwrite existing files")
	flag.Parse()

	if !*force {
		for _, p := range []string{*privatePath, *publicPath} {
			if _, err := os.Stat(p); err == nil {
				slog.Error("file exists, pass -force to overwrite", "path", p)
				os.Exit(1)
			}
		}
	}

	privPEM, pubPEM, err := jwtsvc.GenerateKeyPairPEM(*bits)
	if err != nil {
		slog.Error("generate keypair failed", "error", err)
		os.Exit(1)
	}

	for path, data := range map[string][]byte{*privatePath: privPEM, *publicPath: pubPEM} {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			slog.Error("create directory failed", "path", path, "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			slog.Error("write key failed", "path", path, "error", err)
			os.Exit(1)
		}
	}

	slog.Info("keypair written", "private", *privatePath, "public", *publicPath, "bits", *bits)
}

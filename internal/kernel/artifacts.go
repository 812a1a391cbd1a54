package kernel

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/oriys/ces/internal/backend"
	"github.com/oriys/ces/internal/domain"
)

// materializeArtifacts converts the worker's raw artifact payloads into
// domain Artifacts, persisting any inline content that arrived without a
// file_name to cwd so every artifact ends up with a download URL, per
// the Artifact invariant in §3.
func materializeArtifacts(sessionID, cwd string, raw []backend.RawArtifact) ([]domain.Artifact, error) {
	out := make([]domain.Artifact, 0, len(raw))
	for _, a := range raw {
		art := domain.Artifact{
			Name:         a.Name,
			Kind:         domain.ArtifactKind(a.Kind),
			MimeType:     a.MimeType,
			OriginalName: a.OriginalName,
			FileName:     a.FileName,
			Content:      a.Content,
			Encoding:     domain.ContentEncoding(a.Encoding),
			Preview:      a.Preview,
		}

		if art.FileName == "" && art.Content != "" {
			fileName, err := persistInline(cwd, art.MimeType, art.Content, art.Encoding)
			if err != nil {
				return nil, fmt.Errorf("kernel: persist artifact %q: %w", art.Name, err)
			}
			art.FileName = fileName
		}

		if art.FileName != "" {
			art.DownloadURL = domain.ArtifactDownloadURL(sessionID, art.FileName)
		}
		out = append(out, art)
	}
	return out, nil
}

func persistInline(cwd, mimeType, content string, encoding domain.ContentEncoding) (string, error) {
	var data []byte
	if encoding == domain.EncodingBase64 {
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return "", fmt.Errorf("decode base64 content: %w", err)
		}
		data = decoded
	} else {
		data = []byte(content)
	}

	ext := extensionForMime(mimeType)
	name, err := randomFileName(ext)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(filepath.Join(cwd, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact file: %w", err)
	}
	return name, nil
}

func extensionForMime(mimeType string) string {
	if mimeType == "" {
		return ".bin"
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}

func randomFileName(ext string) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "artifact-" + hex.EncodeToString(buf) + ext, nil
}

// Package gdrive implements the Google Drive connector. Files in one folder
// are read and written by name with the shared file format readers.
package gdrive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

const fileFields = "id, name, mimeType, size, modifiedTime"

// Registration describes the googledrive connector type.
func Registration() connector.Registration {
	return connector.Registration{
		Info: connector.Info{
			Type:           "googledrive",
			DisplayName:    "Google Drive",
			Description:    "CSV, Excel, PDF and image files in a Drive folder",
			Family:         connector.FamilyCloud,
			RequiredFields: []string{"credentials_json"},
			Writable:       true,
		},
		Open: Open,
	}
}

// Store is an ObjectStore over one Drive folder. Keys are file names.
type Store struct {
	svc    *drive.Service
	folder string // "root" when unset
}

// Open authenticates with a service account key.
func Open(ctx context.Context, p connector.Params, logger *zap.Logger) (connector.Capability, error) {
	svc, err := drive.NewService(ctx,
		option.WithCredentialsJSON([]byte(connector.String(p.Details, "credentials_json"))),
		option.WithScopes(drive.DriveScope))
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	return &connector.ObjectBackend{
		Store:  &Store{svc: svc, folder: connector.StringOr(p.Details, "folder_id", "root")},
		Logger: logger,
	}, nil
}

// Query builds the Drive search expression for name inside folder. An empty
// name lists the folder.
func Query(folder, name string) string {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escape(folder))
	if name != "" {
		q += fmt.Sprintf(" and name = '%s'", escape(name))
	}
	return q
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func (s *Store) find(ctx context.Context, name string) (*drive.File, error) {
	res, err := s.svc.Files.List().
		Q(Query(s.folder, name)).
		Fields(googleapi.Field("files(" + fileFields + ")")).
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("search drive: %w", err)
	}
	if len(res.Files) == 0 {
		return nil, nil
	}
	return res.Files[0], nil
}

// Ping reads the folder metadata.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.svc.Files.Get(s.folder).Fields("id").Context(ctx).Do(); err != nil {
		return fmt.Errorf("get folder %s: %w", s.folder, err)
	}
	return nil
}

// Get downloads the named file.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	f, err := s.find(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	if f == nil {
		return nil, 0, apperrors.NotFound("file", key)
	}
	resp, err := s.svc.Files.Get(f.Id).Context(ctx).Download()
	if err != nil {
		return nil, 0, fmt.Errorf("download %s: %w", key, err)
	}
	return resp.Body, f.Size, nil
}

// Exists reports whether a file named key is in the folder.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	f, err := s.find(ctx, key)
	return f != nil, err
}

// Put replaces the content of an existing file or creates a new one.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	f, err := s.find(ctx, key)
	if err != nil {
		return err
	}
	media := googleapi.ContentType(contentType)
	if f != nil {
		_, err = s.svc.Files.Update(f.Id, &drive.File{}).Media(bytes.NewReader(body), media).Context(ctx).Do()
	} else {
		_, err = s.svc.Files.Create(&drive.File{Name: key, Parents: []string{s.folder}}).
			Media(bytes.NewReader(body), media).Context(ctx).Do()
	}
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// List pages through the folder, skipping native Google documents which
// cannot be downloaded as bytes.
func (s *Store) List(ctx context.Context, _ string) ([]models.SourceEntry, error) {
	var out []models.SourceEntry
	err := s.svc.Files.List().
		Q(Query(s.folder, "")).
		Fields(googleapi.Field("nextPageToken, files("+fileFields+")")).
		OrderBy("name").
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				if strings.HasPrefix(f.MimeType, "application/vnd.google-apps.") {
					continue
				}
				modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
				out = append(out, models.SourceEntry{Name: f.Name, Path: f.Name, SizeBytes: f.Size, Modified: modified})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list drive folder: %w", err)
	}
	return out, nil
}

var _ connector.ObjectStore = (*Store)(nil)

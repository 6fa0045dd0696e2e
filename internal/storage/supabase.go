package storage

import (
	"bytes"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Archive stores finished debate transcripts in a Supabase storage bucket.
type Archive struct {
	client *supabase.Client
	bucket string
}

func NewArchive(config Config) (*Archive, error) {
	client, err := supabase.NewClient(config.URL, config.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return &Archive{client: client, bucket: config.Bucket}, nil
}

func (a *Archive) Upload(key, contentType string, data []byte) error {
	_, err := a.client.Storage.UploadFile(a.bucket, key, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

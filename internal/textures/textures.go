package textures

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// Kind distinguishes the two texture slots a profile can carry.
type Kind string

const (
	KindSkin Kind = "skin"
	KindCape Kind = "cape"
)

const maxTextureBytes = 1 << 20 // 1MiB is generous for 64x64 PNGs

// Store holds profile textures keyed by content hash.
type Store interface {
	Put(ctx context.Context, kind Kind, profileUUID uuid.UUID, data []byte) (key string, err error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// validate decodes the payload and checks the dimensions make sense for the
// slot. Re-encoding through imaging strips any non-PNG container tricks.
func validate(kind Kind, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty texture data")
	}
	if len(data) > maxTextureBytes {
		return nil, fmt.Errorf("texture too large: %d bytes", len(data))
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode texture: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch kind {
	case KindSkin:
		if !(w == 64 && (h == 64 || h == 32)) {
			return nil, fmt.Errorf("invalid skin dimensions %dx%d", w, h)
		}
	case KindCape:
		if !(w == 64 && h == 32) {
			return nil, fmt.Errorf("invalid cape dimensions %dx%d", w, h)
		}
	default:
		return nil, fmt.Errorf("unknown texture kind %q", kind)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode texture: %w", err)
	}
	return buf.Bytes(), nil
}

func objectKey(kind Kind, data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("textures/%s/%s.png", kind, hex.EncodeToString(sum[:]))
}

type S3Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	PublicURL string
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, kind Kind, profileUUID uuid.UUID, data []byte) (string, error) {
	data, err := validate(kind, data)
	if err != nil {
		return "", err
	}

	key := objectKey(kind, data)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/png"),
		Metadata: map[string]string{
			"profile_uuid": profileUUID.String(),
			"kind":         string(kind),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload texture: %w", err)
	}
	return key, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete texture: %w", err)
	}
	return nil
}

func (s *S3Store) URL(key string) string {
	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s", s.publicURL, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

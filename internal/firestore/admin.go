package firestore

import (
	"context"
	"errors"
	"fmt"

	gcfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AdminStore reads documents through the Firebase Admin SDK. When running on
// Cloud Run the SDK uses Application Default Credentials automatically; a
// service-account file is only needed elsewhere.
type AdminStore struct {
	client     *gcfirestore.Client
	collection string
}

// NewAdminStore creates an AdminStore for collection in projectID.
// credentialsFile may be empty.
func NewAdminStore(ctx context.Context, projectID, collection, credentialsFile string) (*AdminStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}

	return &AdminStore{client: client, collection: collection}, nil
}

// Get fetches the document with the given id.
func (s *AdminStore) Get(ctx context.Context, docID string) (Document, error) {
	snap, err := s.client.Collection(s.collection).Doc(docID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return Document(snap.Data()), nil
}

// FindByField returns the first document whose field equals value.
func (s *AdminStore) FindByField(ctx context.Context, field, value string) (Document, error) {
	it := s.client.Collection(s.collection).Where(field, "==", value).Limit(1).Documents(ctx)
	defer it.Stop()

	snap, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	return Document(snap.Data()), nil
}

// Close releases the underlying gRPC connection.
func (s *AdminStore) Close() error {
	return s.client.Close()
}

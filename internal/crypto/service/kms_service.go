package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"gocloud.dev/secrets"
	_ "gocloud.dev/secrets/awskms"
	_ "gocloud.dev/secrets/azurekeyvault"
	_ "gocloud.dev/secrets/gcpkms"
	_ "gocloud.dev/secrets/hashivault"
	_ "gocloud.dev/secrets/localsecrets"

	cryptoDomain "github.com/fieldops/resilience/internal/crypto/domain"
)

// KeeperSchemes lists the key URI schemes PAYLOAD_KEY_URI may use.
var KeeperSchemes = []string{"awskms", "azurekeyvault", "base64key", "gcpkms", "hashivault"}

type kmsService struct{}

// NewKMSService returns a KMSService backed by gocloud.dev/secrets.
func NewKMSService() KMSService {
	return &kmsService{}
}

// OpenKeeper rejects unknown schemes before dialing so a typo in the key URI
// fails with the list of accepted schemes instead of a driver lookup error.
func (k *kmsService) OpenKeeper(ctx context.Context, keyURI string) (cryptoDomain.KMSKeeper, error) {
	scheme, _, ok := strings.Cut(keyURI, "://")
	if !ok || !slices.Contains(KeeperSchemes, scheme) {
		return nil, fmt.Errorf(
			"failed to open KMS keeper: scheme %q not one of %s",
			scheme, strings.Join(KeeperSchemes, ", "),
		)
	}

	keeper, err := secrets.OpenKeeper(ctx, keyURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open KMS keeper: %w", err)
	}
	return keeper, nil
}

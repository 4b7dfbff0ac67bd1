package commands

import (
	"context"
	"fmt"
	"io"

	cryptoService "github.com/fieldops/resilience/internal/crypto/service"
	"github.com/fieldops/resilience/internal/operator"
)

// RunCreateOperatorToken generates an operator token. The plain token is shown once;
// only the hash goes into OPERATOR_TOKEN_HASH.
func RunCreateOperatorToken(tokens *operator.TokenService, out io.Writer, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	plainToken, tokenHash, err := tokens.GenerateToken()
	if err != nil {
		return err
	}

	if format == "json" {
		return writeJSON(out, map[string]string{
			"token":      plainToken,
			"token_hash": tokenHash,
		})
	}
	_, _ = fmt.Fprintf(out, "Operator token (store it now, it is not shown again):\n%s\n\n", plainToken)
	_, _ = fmt.Fprintf(out, "Add to the server environment:\nOPERATOR_TOKEN_HASH=%s\n", tokenHash)
	return nil
}

// RunCreatePayloadKey generates a payload data key wrapped by the KMS keeper at keyURI.
func RunCreatePayloadKey(
	ctx context.Context,
	kms cryptoService.KMSService,
	out io.Writer,
	keyURI string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	if keyURI == "" {
		return fmt.Errorf("key uri is required")
	}

	wrapped, err := cryptoService.GenerateWrappedKey(ctx, kms, keyURI)
	if err != nil {
		return err
	}

	if format == "json" {
		return writeJSON(out, map[string]string{
			"key_uri":     keyURI,
			"wrapped_key": wrapped,
		})
	}
	_, _ = fmt.Fprintf(out, "Add to the environment:\nPAYLOAD_ENCRYPTION_ENABLED=true\nPAYLOAD_KEY_URI=%s\nPAYLOAD_WRAPPED_KEY=%s\n",
		keyURI, wrapped)
	return nil
}

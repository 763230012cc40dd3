//go:build !with_cv
// +build !with_cv

package detector

import (
	"context"
	"fmt"
)

func newUnsupportedSession(
	_ context.Context,
	_ []byte,
	provider string,
	_ bool,
) (Session, error) {
	return nil, fmt.Errorf("provider '%s': avblur was built without OpenCV support (build tag 'with_cv')", provider)
}

var defaultSessionFactory SessionFactory = newUnsupportedSession

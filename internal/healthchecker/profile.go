package healthchecker

import (
	"context"

	"github.com/sablelabs/sable/internal/profile"
)

var monitorPhoneNumber = "+440000000000"

func CheckProfile() error {
	profileService := profile.NewService()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := profileService.GetContext(ctx, monitorPhoneNumber)

	return err
}

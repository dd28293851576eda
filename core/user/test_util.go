package user

import (
	"context"

	"github.com/trezcool/phqcare/core"
)

type serviceMock struct {
	service
}

// NewServiceMock returns a Service that sends mails synchronously.
func NewServiceMock(repo Repository, mailSvc core.EmailService, conf *core.Config) Service {
	return &serviceMock{
		service: service{
			repo:    repo,
			mailSvc: mailSvc,
			conf:    conf,
		},
	}
}

func (svc *serviceMock) RequestPasswordReset(ctx context.Context, email string) error {
	usr, token, err := svc.createResetToken(ctx, email)
	if err != nil || token == "" {
		return err
	}
	// run synchronously
	svc.sendPasswordResetMail(usr, token)
	return nil
}

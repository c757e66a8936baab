package tdlib

import (
	"context"
	"time"

	"github.com/zelenin/go-tdlib/client"
	"go.uber.org/zap"
)

type clientAuthorizer struct {
	TdlibParameters *client.SetTdlibParametersRequest
	PhoneNumber     chan string
	Code            chan string
	State           chan client.AuthorizationState
	Password        chan string
}

func (stateHandler *clientAuthorizer) Handle(tdcl *client.Client, state client.AuthorizationState) error {
	ctx, done := context.WithDeadline(context.Background(), time.Now().Add(60*time.Second))
	defer done()
	stateHandler.State <- state

	switch state.AuthorizationStateConstructor() {
	case client.ConstructorAuthorizationStateWaitTdlibParameters:
		_, err := tdcl.SetTdlibParameters(ctx, stateHandler.TdlibParameters)
		return err

	case client.ConstructorAuthorizationStateWaitPhoneNumber:
		_, err := tdcl.SetAuthenticationPhoneNumber(ctx, &client.SetAuthenticationPhoneNumberRequest{
			PhoneNumber: <-stateHandler.PhoneNumber,
			Settings: &client.PhoneNumberAuthenticationSettings{
				AllowFlashCall:       false,
				IsCurrentPhoneNumber: false,
				AllowSmsRetrieverApi: false,
			},
		})
		return err

	case client.ConstructorAuthorizationStateWaitCode:
		_, err := tdcl.CheckAuthenticationCode(ctx, &client.CheckAuthenticationCodeRequest{
			Code: <-stateHandler.Code,
		})
		return err

	case client.ConstructorAuthorizationStateWaitPassword:
		_, err := tdcl.CheckAuthenticationPassword(ctx, &client.CheckAuthenticationPasswordRequest{
			Password: <-stateHandler.Password,
		})
		return err

	case client.ConstructorAuthorizationStateReady:
		return nil

	case client.ConstructorAuthorizationStateClosing:
		return nil

	case client.ConstructorAuthorizationStateClosed:
		return nil
	}

	return client.NotSupportedAuthorizationState(state)
}

func (stateHandler *clientAuthorizer) Close() {
	close(stateHandler.PhoneNumber)
	close(stateHandler.Code)
	close(stateHandler.State)
	close(stateHandler.Password)
}

func newClientAuthorizer(tdlibParameters *client.SetTdlibParametersRequest) *clientAuthorizer {
	return &clientAuthorizer{
		TdlibParameters: tdlibParameters,
		PhoneNumber:     make(chan string, 1),
		Code:            make(chan string, 1),
		State:           make(chan client.AuthorizationState, 10),
		Password:        make(chan string, 1),
	}
}

// chanInteractor feeds the authorizer: the phone comes from config, codes and
// passwords are pulled from authParams (stdin, web form, whatever the caller
// wires up).
func chanInteractor(a *clientAuthorizer, phone string, authParams chan string, log *zap.Logger) {
	phoneSet := false
	codeSet := false
	passwordSet := false

	for {
		state, ok := <-a.State
		if !ok {
			log.Info("authorization process closed")
			return
		}
		log.Debug("authorization state", zap.String("state", state.AuthorizationStateConstructor()))

		switch state.AuthorizationStateConstructor() {
		case client.ConstructorAuthorizationStateWaitPhoneNumber:
			if phoneSet {
				continue
			}
			a.PhoneNumber <- phone
			phoneSet = true

		case client.ConstructorAuthorizationStateWaitCode:
			if codeSet {
				continue
			}
			log.Info("waiting for authentication code")
			param, ok := <-authParams
			if !ok {
				continue
			}
			codeSet = true
			a.Code <- param

		case client.ConstructorAuthorizationStateWaitPassword:
			if passwordSet {
				continue
			}
			log.Info("waiting for password")
			param, ok := <-authParams
			if !ok {
				continue
			}
			passwordSet = true
			a.Password <- param

		case client.ConstructorAuthorizationStateReady:
			log.Info("authorization complete")
			return
		}
	}
}

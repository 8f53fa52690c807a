package cqrs

type CreateUserCommand struct {
	Name     string
	Email    string
	Password string
}

type DeleteUserCommand struct {
	UserID string
}

type RestoreUserCommand struct {
	UserID string
}

// ChangePasswordCommand targets a profile by UserID, or by Email when UserID is empty.
type ChangePasswordCommand struct {
	UserID      string
	Email       string
	NewPassword string
}

type IssueCredentialCommand struct {
	UserID string
	Email  string
}

type DeleteCredentialCommand struct {
	UserID string
}

type RetryTaskCommand struct {
	TaskID string
}

type LoginCommand struct {
	Email    string
	Password string
}

type RefreshTokenCommand struct {
	Token string
}

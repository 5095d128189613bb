package domain

import "time"

// User: зарегистрированный покупатель.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

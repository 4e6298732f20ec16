// cmd/main.go
package main

import (
	"go-task-api/app"
)

// @title           Go-Task API
// @version         1.0
// @description     Task management API with rate limiting and rotating refresh tokens.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	app.Run()
}

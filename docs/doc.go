// Package docs provides generated OpenAPI documentation.
//
// Shrinkify API
//
//	@title			Shrinkify API
//	@version		1.0
//	@description	Batch product title shortening over BigQuery and batch predictions.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/shrinkify
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/shrinkify/serve.go -o ./swagger --parseDependency --parseInternal

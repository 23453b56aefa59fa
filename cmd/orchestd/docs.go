package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           orchestd API
// @version         1.0
// @description     Local view API for training-job and loaded-model orchestration.
//
// @contact.name   orchestd maintainers
// @contact.url    https://github.com/your-org/orchestd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http

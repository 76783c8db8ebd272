package main

// General API documentation annotations in swaggo's format. This tree has
// no step that generates docs from them.
//
// @title           inferd API
// @version         1.0
// @description     HTTP API for model instance lifecycle and tensor inference.
//
// @contact.name   inferd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http

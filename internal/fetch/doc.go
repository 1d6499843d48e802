// Package fetch retrieves web pages for the job_finder tool. HTML pages are
// reduced to their readable article content and converted to markdown, other
// content types are passed through raw with a notice. A TTL cache avoids
// refetching the same URL within a short window.
package fetch

/*
callback is a package that provides callbacks (in the form of http.HandlerFunc)
for handling a provider's responses to authorization code flow and logout
attempts.
*/
package callback

// Package handler turns typed functions into http.HandlerFuncs.
//
// A handler receives a Context and a request struct already filled by the
// configured binders, and returns a Response:
//
//	h := handler.Wrap(func(ctx handler.Context, req getPackageRequest) handler.Response {
//	    pkg, err := svc.GetPackage(ctx, req.ID)
//	    if err != nil {
//	        return handler.Error(err)
//	    }
//	    return handler.JSON(pkg)
//	}, handler.WithBinders[getPackageRequest](handler.Defaults(chi.URLParam)...))
//
// Successful responses use the envelope
// {"success": true, "data": ..., "timestamp": ..., "statusCode": 200}; failures
// use {"success": false, "error": {"code", "message", "details"}, ...}. Errors
// returned through handler.Error are classified by the ErrorHandler, which is
// where domain errors get their status codes.
package handler

// Package cloud talks to the Rinnai Control-R cloud.
//
// Three collaborators live here:
//
//   - CognitoSession signs in against the AWS Cognito user pool and keeps the
//     ID and access tokens fresh.
//   - GraphQLClient lists the devices registered to a user.
//   - ShadowClient sends state patches to a device's shadow endpoint.
//
// None of them retry. Callers decide how often to call them.
package cloud

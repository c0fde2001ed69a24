/*
Package security provides cryptographic services for this collector
deployment: AES-256-GCM encryption helpers, and a certificate authority
for mutual TLS on the operator control API.

# Deployment encryption key

A 32-byte key, derived once at startup with DeriveKeyFromDeploymentID and
installed with SetDeploymentEncryptionKey, encrypts the CA's own root
private key on disk (Encrypt/Decrypt). SecretsManager does not use it; it
takes a key of its own.

# Certificate authority

CertAuthority is a self-signed root (RSA-4096, 10-year validity) that
issues short-lived (90-day) leaf certificates: one for the control API's
gRPC listener (IssueNodeCertificate), and one per operator CLI client that
dials it with mTLS (IssueClientCertificate). The root cert and encrypted
root key persist to a directory via SaveToDir/LoadFromDir; leaf
certificates live only in memory and are reissued each run.

# Secrets

SecretsManager wraps AES-256-GCM under its own key. EncryptSecret/
DecryptSecret operate on raw bytes; CreateSecret/GetSecretData wrap that
around a named Secret record. The collector does not construct a
SecretsManager, and no config field is decrypted through it.
*/
package security
